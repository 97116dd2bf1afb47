package validation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnreadable marks a source that could not be parsed at all.
var ErrUnreadable = errors.New("unreadable payment file")

// RowSource yields the header followed by raw data records. Next returns
// io.EOF after the last record.
type RowSource interface {
	Header() ([]string, error)
	Next() ([]string, error)
	Close() error
}

// NewSource picks a reader by file extension. Anything other than .xlsx is
// read as CSV.
func NewSource(filename string, r io.Reader) (RowSource, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return NewXLSXSource(r)
	default:
		return NewCSVSource(r), nil
	}
}

type csvSource struct {
	reader *csv.Reader
	closer io.Closer
}

func NewCSVSource(r io.Reader) RowSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	src := &csvSource{reader: cr}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

func (s *csvSource) Header() ([]string, error) {
	rec, err := s.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrUnreadable)
	}
	return rec, err
}

func (s *csvSource) Next() ([]string, error) {
	rec, err := s.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, parseErr)
		}
		return nil, err
	}
	return rec, nil
}

func (s *csvSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// xlsxSource streams the first worksheet of a workbook.
type xlsxSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func NewXLSXSource(r io.Reader) (RowSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: no sheets found in workbook", ErrUnreadable)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Header() ([]string, error) {
	rec, err := s.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: worksheet is empty", ErrUnreadable)
	}
	return rec, err
}

func (s *xlsxSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return cols, nil
}

func (s *xlsxSource) Close() error {
	s.rows.Close()
	return s.file.Close()
}
