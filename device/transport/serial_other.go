//go:build !linux

package transport

func OpenSerial(d Descriptor) (Port, error) {
	return nil, ErrUnsupportedPlatform
}
