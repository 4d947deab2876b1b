package transfer

import "os"

const osAppendFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND

func isOSNotExist(err error) bool {
	return os.IsNotExist(err)
}
