package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"
)

// DatasetRow is one training example: a fixed-width feature vector
// produced by the feature mapper plus the label the dataset build use
// case attached (reward-derived for the RL dataset, a simple outcome
// flag for the supervised-scorer dataset). HasLabel distinguishes an
// unlabeled row (decision cycles still open) from a genuine zero label.
type DatasetRow struct {
	TradeID        string
	Symbol         string
	CycleTimeUTC   int64
	FeatureVersion string
	Features       []float64
	HasLabel       bool
	Label          float64
}

// ParquetDatasetRepo appends rows to a single Parquet file, grounded on
// dataset_repo_parquet.py. The schema is fixed at construction time by
// featureNames, since Parquet (unlike the Python side's pandas
// DataFrame) needs a concrete column list up front.
//
// Appending is genuinely "read existing, concat, rewrite" as the
// Python docstring warns: arrow-go has no row-group-append-to-existing-
// file primitive, so every AppendRows call reads back whatever rows
// are already on disk and rewrites the whole file. This does not scale
// to huge datasets; it is adequate for the cycle-scale datasets this
// system builds (thousands, not billions, of rows per file).
type ParquetDatasetRepo struct {
	path             string
	featureNames     []string
	schema           *pqschema.GroupNode
	useJSONLFallback bool
}

func NewParquetDatasetRepo(path string, featureNames []string) (*ParquetDatasetRepo, error) {
	if path == "" {
		path = "data/datasets/rl/rl_dataset_v1.parquet"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dataset dir for %s: %w", path, err)
	}
	return &ParquetDatasetRepo{
		path:         path,
		featureNames: featureNames,
		schema:       datasetGroupNode(featureNames),
	}, nil
}

// SetJSONLFallback turns on a sibling-file JSONL mirror of every
// appended row, written alongside the Parquet file at the same path
// with its extension replaced. disabled by default: dataset_repo_parquet.py
// falls back to JSONL only when pyarrow fails to import, a condition Go
// has no equivalent for, so here the fallback is an explicit opt-in
// rather than an automatic one.
func (d *ParquetDatasetRepo) SetJSONLFallback(enabled bool) {
	d.useJSONLFallback = enabled
}

func (d *ParquetDatasetRepo) jsonlSiblingPath() string {
	ext := filepath.Ext(d.path)
	return strings.TrimSuffix(d.path, ext) + ".jsonl"
}

func (d *ParquetDatasetRepo) appendJSONLFallback(rows []DatasetRow) error {
	if !d.useJSONLFallback || len(rows) == 0 {
		return nil
	}
	f, err := os.OpenFile(d.jsonlSiblingPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open jsonl fallback for %s: %w", d.path, err)
	}
	defer f.Close()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("storage: marshal jsonl fallback row for %s: %w", d.path, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("storage: write jsonl fallback for %s: %w", d.path, err)
		}
	}
	return nil
}

func datasetGroupNode(featureNames []string) *pqschema.GroupNode {
	fields := pqschema.FieldList{
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("trade_id", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("symbol", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical("cycle_time_utc", parquet.Repetitions.Optional, pqschema.NewTimestampLogicalType(true, pqschema.TimeUnitSeconds), parquet.Types.Int64, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("feature_version", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
	}
	for _, name := range featureNames {
		fields = append(fields, pqschema.NewFloat64Node("feat_"+name, parquet.Repetitions.Optional, -1))
	}
	fields = append(fields, pqschema.NewFloat64Node("label", parquet.Repetitions.Optional, -1))
	return pqschema.MustGroup(pqschema.NewGroupNode("dataset_row", parquet.Repetitions.Required, fields))
}

// AppendRows merges rows into the existing file (if any) and rewrites
// it as one Parquet file with Snappy compression.
func (d *ParquetDatasetRepo) AppendRows(rows []DatasetRow) error {
	existing, err := d.readAll()
	if err != nil {
		return err
	}
	all := append(existing, rows...)

	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", d.path, err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Snappy))
	pw := pqfile.NewParquetWriter(f, d.schema, pqfile.WithWriterProps(props))
	defer pw.Close()

	rgw := pw.AppendBufferedRowGroup()
	for _, row := range all {
		if err := d.writeRow(rgw, row); err != nil {
			rgw.Close()
			return err
		}
	}
	if err := rgw.Close(); err != nil {
		return fmt.Errorf("storage: close row group for %s: %w", d.path, err)
	}
	if err := pw.FlushWithFooter(); err != nil {
		return fmt.Errorf("storage: flush %s: %w", d.path, err)
	}
	return d.appendJSONLFallback(rows)
}

func (d *ParquetDatasetRepo) writeRow(rgw pqfile.BufferedRowGroupWriter, row DatasetRow) error {
	col := 0
	next := func() pqfile.ColumnChunkWriter {
		cw, _ := rgw.Column(col)
		col++
		return cw
	}

	next().(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(row.TradeID)}, []int16{1}, nil)
	next().(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(row.Symbol)}, []int16{1}, nil)
	next().(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{row.CycleTimeUTC}, []int16{1}, nil)
	next().(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(row.FeatureVersion)}, []int16{1}, nil)

	for i := range d.featureNames {
		var v float64
		if i < len(row.Features) {
			v = row.Features[i]
		}
		next().(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{v}, []int16{1}, nil)
	}

	if row.HasLabel {
		next().(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{row.Label}, []int16{1}, nil)
	} else {
		next().(*pqfile.Float64ColumnChunkWriter).WriteBatch(nil, []int16{0}, nil)
	}
	return nil
}

// readAll reads back every row currently in the file, or an empty
// slice if the file doesn't exist yet.
func (d *ParquetDatasetRepo) readAll() ([]DatasetRow, error) {
	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", d.path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", d.path, err)
	}
	if stat.Size() == 0 {
		return nil, nil
	}

	reader, err := pqfile.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("storage: open parquet reader for %s: %w", d.path, err)
	}
	defer reader.Close()

	nFeatures := len(d.featureNames)
	var out []DatasetRow
	for g := 0; g < reader.NumRowGroups(); g++ {
		rgr := reader.RowGroup(g)
		n := rgr.NumRows()
		if n == 0 {
			continue
		}

		tradeIDs := readByteArrayColumn(rgr, 0, n)
		symbols := readByteArrayColumn(rgr, 1, n)
		cycleTimes := readInt64Column(rgr, 2, n)
		featureVersions := readByteArrayColumn(rgr, 3, n)
		featureCols := make([][]float64, nFeatures)
		for i := 0; i < nFeatures; i++ {
			featureCols[i] = readFloat64Column(rgr, 4+i, n)
		}
		labels, labelDefs := readFloat64ColumnWithDefs(rgr, 4+nFeatures, n)

		for i := int64(0); i < n; i++ {
			features := make([]float64, nFeatures)
			for c := 0; c < nFeatures; c++ {
				features[c] = featureCols[c][i]
			}
			out = append(out, DatasetRow{
				TradeID:        string(tradeIDs[i]),
				Symbol:         string(symbols[i]),
				CycleTimeUTC:   cycleTimes[i],
				FeatureVersion: string(featureVersions[i]),
				Features:       features,
				HasLabel:       labelDefs[i] > 0,
				Label:          labels[i],
			})
		}
	}
	return out, nil
}

func readByteArrayColumn(rgr pqfile.RowGroupReader, col int, n int64) []parquet.ByteArray {
	cr, _ := rgr.Column(col)
	values := make([]parquet.ByteArray, n)
	defLevels := make([]int16, n)
	cr.(*pqfile.ByteArrayColumnChunkReader).ReadBatch(n, values, defLevels, nil)
	return values
}

func readInt64Column(rgr pqfile.RowGroupReader, col int, n int64) []int64 {
	cr, _ := rgr.Column(col)
	values := make([]int64, n)
	defLevels := make([]int16, n)
	cr.(*pqfile.Int64ColumnChunkReader).ReadBatch(n, values, defLevels, nil)
	return values
}

func readFloat64Column(rgr pqfile.RowGroupReader, col int, n int64) []float64 {
	values, _ := readFloat64ColumnWithDefs(rgr, col, n)
	return values
}

func readFloat64ColumnWithDefs(rgr pqfile.RowGroupReader, col int, n int64) ([]float64, []int16) {
	cr, _ := rgr.Column(col)
	values := make([]float64, n)
	defLevels := make([]int16, n)
	cr.(*pqfile.Float64ColumnChunkReader).ReadBatch(n, values, defLevels, nil)
	return values, defLevels
}
