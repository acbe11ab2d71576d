package vfs

import "syscall"

// ENOATTR is reported as ENODATA on Linux.
var ENOATTR = syscall.ENODATA
