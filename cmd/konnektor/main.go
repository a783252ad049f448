// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"os"

	"github.com/jeremyhahn/go-konnektor/internal/cli"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintError(err)
		if errcodes.IsHint(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
