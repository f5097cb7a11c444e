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
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/exascience/lazybam/bam"
	"github.com/exascience/lazybam/utils"
)

// FilterHelp is the help string for the lazybam filter command.
const FilterHelp = "filter parameters:\n" +
	"lazybam filter bam-file bam-output-file\n" +
	"[--require-flag nr]\n" +
	"[--exclude-flag nr]\n" +
	"[--min-mapq nr]\n" +
	"[--min-score nr]\n" +
	"[--compression-level nr]\n" +
	"[--log-path path]\n"

// Filter implements the filter command. It streams the records of a
// BAM file, keeps those that pass the requested flag, mapping quality,
// and alignment score criteria, and writes the kept records unchanged
// to the output file under a header extended with one @PG record for
// this invocation. Records are never decoded beyond the fields that
// the criteria ask for.
func Filter() (err error) {
	var flags flag.FlagSet
	var (
		requireFlag, excludeFlag uint
		minMapQ                  uint
		minScore                 int64
		level                    int
		logPath                  string
	)
	flags.UintVar(&requireFlag, "require-flag", 0, "only keep records with all these flag bits set")
	flags.UintVar(&excludeFlag, "exclude-flag", 0, "only keep records with none of these flag bits set")
	flags.UintVar(&minMapQ, "min-mapq", 0, "only keep records with at least this mapping quality")
	flags.Int64Var(&minScore, "min-score", -1, "only keep records whose AS tag is at least this score")
	flags.IntVar(&level, "compression-level", -1, "compression level for the output file")
	flags.StringVar(&logPath, "log-path", "", "write log files to this directory")

	parseFlags(flags, 4, FilterHelp)

	fileIn := getFilename(os.Args[2], FilterHelp)
	fileOut := getFilename(os.Args[3], FilterHelp)

	// Mapping quality is a single byte; a larger threshold would
	// truncate when compared against it.
	if minMapQ > 255 {
		return fmt.Errorf("invalid --min-mapq value %d: mapping quality ranges from 0 to 255", minMapQ)
	}

	setLogOutput(logPath)

	input, err := bam.Open(fileIn)
	if err != nil {
		return err
	}
	defer func() {
		nerr := input.Close()
		if err == nil {
			err = nerr
		}
	}()

	hdr := input.Header()
	hdr.AddProgram(bam.Program{
		Name:        utils.ProgramName,
		Version:     utils.ProgramVersion,
		CommandLine: strings.Join(os.Args, " "),
	})

	if err := os.MkdirAll(filepath.Dir(fileOut), 0700); err != nil {
		return err
	}
	output, err := bam.Create(fileOut, level)
	if err != nil {
		return err
	}
	defer func() {
		nerr := output.Close()
		if err == nil {
			err = nerr
		}
	}()
	if err := output.WriteHeader(hdr); err != nil {
		return err
	}

	var seen, kept int
	for {
		rec, err := input.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		seen++
		if requireFlag != 0 && !rec.HasFlag(uint16(requireFlag)) {
			continue
		}
		if excludeFlag != 0 && rec.Flag()&uint16(excludeFlag) != 0 {
			continue
		}
		if rec.MapQ() < byte(minMapQ) {
			continue
		}
		if minScore >= 0 {
			layout, err := rec.Layout()
			if err != nil {
				return err
			}
			score, err := bam.GetIntTag(rec.TagBytes(layout), "AS", -1)
			if err != nil {
				return err
			}
			if score < minScore {
				continue
			}
		}
		if err := output.WriteRecord(rec); err != nil {
			return err
		}
		kept++
	}
	log.Println("Kept", kept, "of", seen, "records.")
	return nil
}

// ViewHelp is the help string for the lazybam view command.
const ViewHelp = "view parameters:\n" +
	"lazybam view bam-file\n" +
	"[--with-seq]\n" +
	"[--limit nr]\n"

// View implements the view command. It prints a tab-separated summary
// per record for quick inspection: read name, flag, reference name,
// 1-based position, mapping quality, cigar, and optionally the decoded
// sequence.
func View() (err error) {
	var flags flag.FlagSet
	var (
		withSeq bool
		limit   int
	)
	flags.BoolVar(&withSeq, "with-seq", false, "also print the decoded sequence")
	flags.IntVar(&limit, "limit", 0, "stop after this many records (0 for all)")

	parseFlags(flags, 3, ViewHelp)

	fileIn := getFilename(os.Args[2], ViewHelp)

	input, err := bam.Open(fileIn)
	if err != nil {
		return err
	}
	defer func() {
		nerr := input.Close()
		if err == nil {
			err = nerr
		}
	}()

	hdr := input.Header()
	for n := 0; limit == 0 || n < limit; n++ {
		rec, err := input.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		layout, err := rec.Layout()
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\t%s\t%d\t%d\t%s",
			rec.ReadName(layout),
			rec.Flag(),
			hdr.RefName(rec.RefID()),
			rec.Pos()+1,
			rec.MapQ(),
			bam.DecodeCigar(rec.RawCigar(layout)),
		)
		if withSeq {
			fmt.Print("\t", bam.DecodeSeq(rec.RawSeq(layout), rec.SeqLen()))
		}
		fmt.Println()
	}
	return nil
}
