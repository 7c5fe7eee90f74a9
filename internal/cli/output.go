// output.go — вывод результатов команд: таблица, JSON или YAML.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return usagef("недопустимый формат вывода %q, допустимые: table, json, yaml", format)
	}
}

// render выводит v в выбранном формате. table — функция табличного
// вывода, получает tabwriter и должна вернуть ошибку записи.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer) error) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if err := table(tw); err != nil {
			return err
		}
		return tw.Flush()
	}
}

// row пишет строку таблицы, разделяя колонки табуляцией.
func row(tw *tabwriter.Writer, cols ...any) error {
	for i, c := range cols {
		sep := "\t"
		if i == len(cols)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprint(tw, c, sep); err != nil {
			return err
		}
	}
	return nil
}
