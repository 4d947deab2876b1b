package nettransport

import "os"

const osAppendFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
