package blob

import (
	"context"
	"fmt"
)

// Options selects and configures a driver.
type Options struct {
	Driver Driver
	Dir    string // fs root
	S3     S3Config
}

// Open returns the store named by opts.Driver. An empty driver means fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverFilesystem, "":
		return NewFilesystem(opts.Dir)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", opts.Driver)
	}
}
