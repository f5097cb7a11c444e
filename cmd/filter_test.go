// lazybam: a low-level toolkit for lazily scanning and rewriting BAM files.
// Copyright (c) 2020-2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/exascience/lazybam/blob/master/LICENSE.txt>.

package cmd

import (
	"os"
	"strings"
	"testing"
)

func TestFilterRejectsOversizedMapQ(t *testing.T) {
	orgArgs := os.Args
	defer func() { os.Args = orgArgs }()
	os.Args = []string{"lazybam", "filter", "in.bam", "out.bam", "--min-mapq", "300"}

	err := Filter()
	if err == nil {
		t.Fatal("a --min-mapq above 255 was accepted")
	}
	if !strings.Contains(err.Error(), "min-mapq") {
		t.Errorf("got %v", err)
	}
}
