// Copyright 2024 WbkFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"path"
	"strings"
)

// MaxNameLen is the longest directory entry name accepted, in bytes.
const MaxNameLen = 80

// NormalizePath cleans a slash-separated VFS path and strips the leading
// and trailing slashes. The root directory normalizes to "".
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

// SplitPath splits a path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components
func JoinPath(parts ...string) string {
	return NormalizePath(path.Join(parts...))
}

// ParentPath returns the parent directory of a path ("" for the root and
// for top-level entries).
func ParentPath(p string) string {
	p = NormalizePath(p)
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// BaseName returns the base name of a path
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// ValidateName checks a single directory entry name. reserve is the number
// of bytes the name must leave free below MaxNameLen (the backup decoration
// for regular files).
func ValidateName(name string, reserve int) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidArgument, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidArgument, name)
	case len(name)+reserve > MaxNameLen:
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrNameTooLong, len(name), MaxNameLen-reserve)
	}
	return nil
}
