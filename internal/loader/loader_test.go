package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantarc/portsim/internal/types"
	"github.com/quantarc/portsim/pkg/errors"
)

type LoaderTestSuite struct {
	suite.Suite
	dir string
}

func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func (suite *LoaderTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
}

func (suite *LoaderTestSuite) writeFile(name, content string) string {
	path := filepath.Join(suite.dir, name)
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

const sampleCSV = `timestamp,open,high,low,close,volume
2024-03-01,100,105,99,104,1000
2024-03-04,104,110,103,108,1500
`

func (suite *LoaderTestSuite) TestReadBars() {
	path := suite.writeFile("GOOGL_1d_sample.csv", sampleCSV)

	bars, err := ReadBars(path)
	suite.Require().NoError(err)
	suite.Require().Len(bars, 2)

	suite.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp)
	suite.Equal(100.0, bars[0].Open)
	suite.Equal(108.0, bars[1].Close)
	suite.Equal(1500.0, bars[1].Volume)
}

func (suite *LoaderTestSuite) TestReadBarsDatetimeFormats() {
	path := suite.writeFile("BTC-USD_1h_sample.csv", `timestamp,open,high,low,close,volume
2024-03-01T10:00:00Z,1,2,0.5,1.5,10
2024-03-01 11:00:00,1.5,2.5,1,2,20
`)

	bars, err := ReadBars(path)
	suite.Require().NoError(err)
	suite.Equal(10, bars[0].Timestamp.Hour())
	suite.Equal(11, bars[1].Timestamp.Hour())
}

func (suite *LoaderTestSuite) TestReadBarsBadNumber() {
	path := suite.writeFile("GOOGL_1d_bad.csv", `timestamp,open,high,low,close,volume
2024-03-01,abc,105,99,104,1000
`)

	_, err := ReadBars(path)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataParseFailed))
}

func (suite *LoaderTestSuite) TestReadBarsEmpty() {
	path := suite.writeFile("GOOGL_1d_empty.csv", "timestamp,open,high,low,close,volume\n")

	_, err := ReadBars(path)
	suite.True(errors.HasCode(err, errors.ErrCodeEmptySeries))
}

func (suite *LoaderTestSuite) TestParseFilename() {
	symbol, timeframe, err := ParseFilename("/data/BTC-USD_4h_2020.csv")
	suite.Require().NoError(err)
	suite.Equal("BTC-USD", symbol)
	suite.Equal(types.Timeframe4h, timeframe)
}

func (suite *LoaderTestSuite) TestParseFilenameRejectsUnknownTimeframe() {
	_, _, err := ParseFilename("/data/GOOGL_2x_2020.csv")
	suite.Error(err)
}

func (suite *LoaderTestSuite) TestParseFilenameRejectsShapelessName() {
	_, _, err := ParseFilename("/data/googl.csv")
	suite.True(errors.HasCode(err, errors.ErrCodeDataParseFailed))
}

func (suite *LoaderTestSuite) TestDiscover() {
	suite.writeFile("GOOGL_1d_a.csv", sampleCSV)
	suite.writeFile("AMZN_1d_a.csv", sampleCSV)

	files, err := Discover(filepath.Join(suite.dir, "*.csv"))
	suite.Require().NoError(err)
	suite.Len(files, 2)
}

func (suite *LoaderTestSuite) TestDiscoverNoMatches() {
	_, err := Discover(filepath.Join(suite.dir, "*.csv"))
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}
