//go:build !linux

package vfs

import "syscall"

// ENOATTR means the extended attribute does not exist.
var ENOATTR = syscall.ENOATTR
