package ioservice

import "golang.org/x/sys/unix"

// TransferResult maps a read/write completion's res field to (bytes, err)
// per the read/write mapping: res < 0 is an errno, res >= 0 is the byte
// count transferred.
func TransferResult(res int32) (int, error) {
	if res < 0 {
		return 0, unix.Errno(-res)
	}
	return int(res), nil
}

// PollAddResult maps a poll-add completion's res field. res > 0 carries
// the readiness mask and is success; res < 0 is an errno; res == 0 is the
// canonical cancellation indicator (the matching poll-remove fired).
func PollAddResult(res int32) (readyMask uint32, cancelled bool, err error) {
	switch {
	case res > 0:
		return uint32(res), false, nil
	case res == 0:
		return 0, true, nil
	default:
		return 0, false, unix.Errno(-res)
	}
}

// SimpleResult maps a poll-remove or fsync completion's res field: res >= 0
// is success, res < 0 is an errno.
func SimpleResult(res int32) error {
	if res < 0 {
		return unix.Errno(-res)
	}
	return nil
}
