//go:build !govips || !cgo

package encode

func Startup() error {
	return nil
}

func Shutdown() {}

func newBackend() Backend {
	return nativeBackend{}
}
