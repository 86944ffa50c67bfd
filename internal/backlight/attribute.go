package backlight

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// attribute is an integer-valued sysfs attribute kept open for the lifetime
// of the controller.
type attribute interface {
	ReadInt() (int64, error)
	WriteInt(v int64) error
	Close() error
}

type sysfsAttribute struct {
	f *os.File
}

func openAttribute(path string) (*sysfsAttribute, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &sysfsAttribute{f: f}, nil
}

func (a *sysfsAttribute) ReadInt() (int64, error) {
	buf := make([]byte, 32)
	n, err := a.f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, fmt.Errorf("read %s: %w", a.f.Name(), err)
	}
	return parseInt(string(buf[:n]))
}

// WriteInt writes v at offset 0. sysfs attributes take the whole value in a
// single write.
func (a *sysfsAttribute) WriteInt(v int64) error {
	if _, err := a.f.WriteAt([]byte(strconv.FormatInt(v, 10)+"\n"), 0); err != nil {
		return err
	}
	return nil
}

func (a *sysfsAttribute) Close() error {
	return a.f.Close()
}

func readIntFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return parseInt(string(data))
}

// parseInt parses the first whitespace separated field of a sysfs value.
func parseInt(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseInt(fields[0], 10, 64)
}
