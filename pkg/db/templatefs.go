package db

import (
	"bytes"
	"io"
	"io/fs"
	"text/template"
)

// migrateContext is the data migrations are rendered with
type migrateContext struct {
	Database      string
	BindingsTable string
	RetentionDays int
}

// templateFS renders every opened file as a text/template with data
type templateFS struct {
	fs   fs.FS
	data any
}

func NewTemplateFS(filesystem fs.FS, data any) *templateFS {
	return &templateFS{
		fs:   filesystem,
		data: data,
	}
}

func (tfs *templateFS) Open(name string) (fs.File, error) {
	file, err := tfs.fs.Open(name)
	if err != nil {
		return nil, err
	}

	return &templateFile{File: file, data: tfs.data}, nil
}

// ReadDir is required by iofs to list migrations
func (tfs *templateFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(tfs.fs, name)
}

type templateFile struct {
	fs.File
	data any
	buf  *bytes.Buffer
}

func (tf *templateFile) render() error {
	content, err := io.ReadAll(tf.File)
	if err != nil {
		return err
	}

	tmpl, err := template.New("migration").Option("missingkey=error").Parse(string(content))
	if err != nil {
		return err
	}

	tf.buf = &bytes.Buffer{}
	return tmpl.Execute(tf.buf, tf.data)
}

func (tf *templateFile) Read(p []byte) (int, error) {
	if tf.buf == nil {
		if err := tf.render(); err != nil {
			return 0, err
		}
	}

	return tf.buf.Read(p)
}
