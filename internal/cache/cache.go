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

// Package cache provides the attribute cache used by the VFS layer.
//
// Entries are keyed by inode number rather than path, so a write through one
// hard link invalidates the attributes seen through every other name.
package cache

import "os"

// Disabled controls whether caching is disabled.
// Set via WBKFS_CACHE=0 environment variable.
// When true, AttrCache.Get always misses and AttrCache.Set is a no-op.
var Disabled = os.Getenv("WBKFS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
