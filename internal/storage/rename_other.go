//go:build !linux

package storage

func renameNoReplace(src, dst string) error {
	return renameCheckThenMove(src, dst)
}
