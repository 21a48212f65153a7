package methodscript

import (
	"context"

	"go.uber.org/zap"
)

// Decoder turns the line stream of a running script into packages.
type Decoder struct {
	reader *Reader
	logger *zap.Logger
}

func NewDecoder(reader *Reader, logger *zap.Logger) *Decoder {
	return &Decoder{reader: reader, logger: logger}
}

// Receive reads lines until the empty line that ends the script output and
// hands every package to fn in arrival order. A device error line stops the
// receive and is returned as *DeviceError.
//
// The read itself ignores ctx cancellation so the device output is always
// consumed completely; fn decides what to do with packages after cancel.
func (d *Decoder) Receive(ctx context.Context, fn func(Package) error) error {
	readCtx := context.WithoutCancel(ctx)

	for {
		line, err := d.reader.ReadLine(readCtx)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}

		d.logger.Debug("pico line", zap.String("line", line))

		switch line[0] {
		case 'P':
			pkg, err := ParsePackage(line)
			if err != nil {
				return err
			}
			if err := fn(pkg); err != nil {
				return err
			}
		case '!':
			derr, err := ParseError(line)
			if err != nil {
				return err
			}
			return derr
		default:
			d.logger.Info("unhandled line from device", zap.String("line", line))
		}
	}
}
