package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrUnreadablePDF   = errors.New("extract: unreadable pdf")
	ErrInvalidEncoding = errors.New("extract: file is not valid utf-8")
)

// UploadedFile is a named blob handed over by the upload surface.
type UploadedFile struct {
	Name string
	Data []byte
}

// ExtractError names the file that failed the extraction.
type ExtractError struct {
	File string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.File, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ExtractText concatenates the text of every file in input order and trims
// the result. The first failing file fails the whole call.
func ExtractText(files []UploadedFile) (string, error) {
	var builder strings.Builder
	for _, file := range files {
		if strings.HasSuffix(file.Name, ".pdf") {
			if err := writePDFText(&builder, file.Data); err != nil {
				return "", &ExtractError{File: file.Name, Err: err}
			}
			continue
		}

		if !utf8.Valid(file.Data) {
			return "", &ExtractError{File: file.Name, Err: ErrInvalidEncoding}
		}
		builder.Write(file.Data)
		builder.WriteByte('\n')
	}

	return strings.TrimSpace(builder.String()), nil
}

// writePDFText appends each page followed by a newline. Pages without a text
// layer contribute an empty line.
func writePDFText(builder *strings.Builder, data []byte) (err error) {
	// the pdf package panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() || page.V.Key("Contents").IsNull() {
			builder.WriteByte('\n')
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrUnreadablePDF, i, err)
		}
		builder.WriteString(text)
		builder.WriteByte('\n')
	}

	return nil
}

// FilesFromMultipart reads every uploaded part into memory.
func FilesFromMultipart(headers []*multipart.FileHeader) ([]UploadedFile, error) {
	files := make([]UploadedFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", header.Filename, err)
		}
		files = append(files, UploadedFile{Name: header.Filename, Data: data})
	}
	return files, nil
}

// FilesFromPaths loads local files for the terminal shell.
func FilesFromPaths(paths []string) ([]UploadedFile, error) {
	files := make([]UploadedFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		files = append(files, UploadedFile{Name: filepath.Base(path), Data: data})
	}
	return files, nil
}
