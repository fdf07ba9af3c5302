//go:build !unix

package repository

import "github.com/spf13/afero"

func fileLock(afero.Fs, string) (func(), error) {
	return func() {}, nil
}
