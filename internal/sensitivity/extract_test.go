package sensitivity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
)

const reportPath = "/project/outputs/data/demand/Total_demand.csv"

func extractFrom(t *testing.T, content string) (map[string]float64, error) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile(reportPath, []byte(content), 0o644))
	return NewCSVExtractor(mfs).Extract(context.Background(), ReportHandle{Path: reportPath})
}

func TestCSVExtractor_Extract(t *testing.T) {
	got, err := extractFrom(t, "Name,Af_m2,GRID_MWhyr\nB1001,1200,350.5\nB1002,800, 120 \n")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"B1001": 350.5, "B1002": 120}, got)
}

func TestCSVExtractor_Failures(t *testing.T) {
	cases := map[string]string{
		"empty file":   "",
		"header only":  "Name,GRID_MWhyr\n",
		"no metric":    "Name,QC_sys_MWhyr\nB1,1\n",
		"no id":        "Building,GRID_MWhyr\nB1,1\n",
		"unparsable":   "Name,GRID_MWhyr\nB1,n/a\n",
		"empty metric": "Name,GRID_MWhyr\nB1,\n",
		"duplicate":    "Name,GRID_MWhyr\nB1,1\nB1,2\n",
		"ragged csv":   "Name,GRID_MWhyr\nB1,1,2\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := extractFrom(t, content)
			assert.ErrorIs(t, err, ErrExtract)
		})
	}
}

func TestCSVExtractor_MissingReport(t *testing.T) {
	_, err := NewCSVExtractor(fsutil.NewMemoryFileSystem()).Extract(context.Background(), ReportHandle{Path: "/missing.csv"})
	assert.ErrorIs(t, err, ErrExtract)
}

func TestCSVExtractor_CustomColumns(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/r.csv", []byte("id,QC_sys_MWhyr\nA,5\n"), 0o644))
	e := &CSVExtractor{FS: mfs, IDColumn: "id", MetricColumn: "QC_sys_MWhyr"}
	got, err := e.Extract(context.Background(), ReportHandle{Path: "/r.csv"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"A": 5}, got)
}

func TestCSVExtractor_ReportsLineOfBadRow(t *testing.T) {
	_, err := extractFrom(t, "Name,GRID_MWhyr\nB1,1\nB2,2\nB1,3\n")
	require.ErrorIs(t, err, ErrExtract)
	assert.Contains(t, err.Error(), "line 4")
}
