package utils

import (
	"fmt"
	"os"
)

// CheckAndMkdir ensures dir exists (creating it if absent) and is a
// directory. Grounded on the teacher's src/common/utils/util.go helper of
// the same name, used by LevelPartStore to stand up its data directory.
func CheckAndMkdir(dir string) error {
	stat, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return nil
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
