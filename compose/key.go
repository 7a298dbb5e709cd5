// Copyright (c) 2025, The Loom Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compose

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Key identifies one call-site invocation among its siblings. It
// combines the static identity of the call site with an optional
// runtime-supplied disambiguator for call sites executed in a loop
// (e.g. an item ID). Two sibling groups in one pass must not declare
// the same Key; see [KeyCollisionError].
type Key struct {
	// Site is the static identity of the call site.
	Site string

	// Tag is the optional runtime disambiguator. It must be comparable.
	Tag any
}

func (k Key) String() string {
	if k.Tag == nil {
		return k.Site
	}
	return fmt.Sprintf("%s[%v]", k.Site, k.Tag)
}

// KeyOf returns a [Key] with the given site and optional tag.
func KeyOf(site string, tag ...any) Key {
	k := Key{Site: site}
	if len(tag) > 0 {
		k.Tag = tag[0]
	}
	return k
}

// AutoKey returns a [Key] whose site is derived from the file and line
// of the calling function, with an optional runtime tag, so call sites
// get unique identities without hand-assigned names.
func AutoKey(tag ...any) Key {
	k := Key{Site: autoSiteName(2)}
	if len(tag) > 0 {
		k.Tag = tag[0]
	}
	return k
}

// autoSiteName returns the dir-filename-line of [runtime.Caller](level),
// with all / . replaced to -, which is suitable as a unique site name.
func autoSiteName(level int) string {
	_, file, line, _ := runtime.Caller(level)
	name := filepath.Base(file)
	dir := filepath.Base(filepath.Dir(file))
	path := dir + "-" + name
	path = strings.ReplaceAll(strings.ReplaceAll(path, "/", "-"), ".", "-") + "-" + strconv.Itoa(line)
	return path
}
