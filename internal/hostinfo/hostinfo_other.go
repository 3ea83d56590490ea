//go:build !linux && !darwin

package hostinfo

// NewReader はこのプラットフォームでは常に ErrPlatformUnsupported を返す Reader を返す
func NewReader() Reader {
	return unsupportedReader{}
}
