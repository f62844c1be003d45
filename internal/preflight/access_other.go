//go:build !unix

package preflight

import (
	"fmt"
	"os"
)

func accessDir(path string) error {
	f, err := os.CreateTemp(path, ".harmonix-access-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func accessExec(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
