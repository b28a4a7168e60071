// Copyright 2025 Emiliano Spinella (eminwux)
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
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/eminwux/rendervisor/internal/errdefs"
	"github.com/eminwux/rendervisor/internal/instance"
	"go.yaml.in/yaml/v3"
)

const NoInstancesString = "no instances found\n"

// ScanAndPrintInstances scans the instances root and prints the result to w
// as a table, or as json or yaml.
func ScanAndPrintInstances(
	ctx context.Context,
	logger *slog.Logger,
	l instance.Layout,
	w io.Writer,
	format string,
) error {
	logger.DebugContext(ctx, "ScanAndPrintInstances: scanning instances", "root", l.Root)
	instances, err := instance.Scan(ctx, logger, l)
	if err != nil {
		logger.ErrorContext(ctx, "ScanAndPrintInstances: failed to scan instances", "error", err)
		return err
	}
	logger.InfoContext(ctx, "ScanAndPrintInstances: scanned instances", "count", len(instances))
	if format == "" {
		return printInstances(w, instances)
	}
	return PrintFormatted(w, instances, format)
}

func printInstances(w io.Writer, instances []instance.Instance) error {
	//nolint:mnd // tabwriter padding
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(instances) == 0 {
		fmt.Fprint(tw, NoInstancesString)
		return tw.Flush()
	}

	fmt.Fprintln(tw, "ID\tDIR\tPORT\tSTREAM\tGEOMETRY\tPROBLEMS")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.ID,
			inst.Dir,
			optionalInt(inst.Port, inst.HasPort),
			optionalInt(inst.StreamID, inst.HasStream),
			geometry(inst),
			problems(inst),
		)
	}
	return tw.Flush()
}

func optionalInt(v int, ok bool) string {
	if !ok {
		return "-"
	}
	return strconv.Itoa(v)
}

func geometry(inst instance.Instance) string {
	if inst.Geometry == nil {
		return "-"
	}
	return fmt.Sprintf("%dx%d", inst.Geometry.Width, inst.Geometry.Height)
}

func problems(inst instance.Instance) string {
	if len(inst.Problems) == 0 {
		return "-"
	}
	return strings.Join(inst.Problems, "; ")
}

// PrintFormatted writes v as json, yaml, or in the indented human form when
// format is empty.
func PrintFormatted(w io.Writer, v any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "":
		PrintHuman(w, v, "")
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q (use json|yaml)", errdefs.ErrInvalidFlag, format)
	}
}
