package synth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// previewHost stands in for host resources on dry runs. Every request is
// answered with a /dev/null descriptor named after what it replaces, so
// descriptor numbering matches a real run and nothing on the host changes.
type previewHost struct{}

func placeholder(name string) (*os.File, error) {
	fd, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open placeholder for %s: %w", name, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

func (previewHost) ListenUnix(ctx context.Context, path string, _ os.FileMode) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return placeholder("unix:" + path)
}

func (previewHost) OpenDevice(ctx context.Context, path string, _ int) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return placeholder("device:" + path)
}

func (previewHost) OpenTap(ctx context.Context, ifname string, queues int, _ bool) ([]*os.File, error) {
	if queues < 1 {
		queues = 1
	}
	files := make([]*os.File, 0, queues)
	for i := 0; i < queues; i++ {
		if err := ctx.Err(); err != nil {
			closeAll(files)
			return nil, err
		}
		f, err := placeholder(fmt.Sprintf("tap:%s/%d", ifname, i))
		if err != nil {
			closeAll(files)
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
