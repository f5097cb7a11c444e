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

// lazybam scans BAM files lazily: it extracts individual fields from
// raw alignment records and rewrites kept records into new BAM files
// without ever materializing them.
//
// See https://github.com/exascience/lazybam for documentation.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/exascience/lazybam/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: filter, view")
	fmt.Fprint(os.Stderr, "\n", cmd.FilterHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.ViewHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "filter":
		err = cmd.Filter()
	case "view":
		err = cmd.View()
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(0)
	default:
		log.Println("Unknown command:", os.Args[1])
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalln(err)
	}
}
