//go:build !unix

package shm

func mapSegment(path string, size int) ([]byte, bool, error) {
	return nil, false, ErrUnsupported
}

func unmapSegment(mem []byte) error {
	return nil
}

func unlinkSegment(path string) error {
	return nil
}
