package brainage

import (
	"fmt"
)

// Usage is the one-line synopsis printed on argument errors.
const Usage = "usage: brainage [-config brainage.yaml] outputCsvFile inputImage [inputImage ...]"

// ParseArgs splits the positional arguments into the output file and the
// input images. The first argument names the CSV output; the literal "None"
// or "none" suppresses the file and prints a table instead. At least one
// input image is required.
func ParseArgs(args []string) (outputFile string, inputs []string, err error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing output file argument")
	}
	if len(args) < 2 {
		return "", nil, fmt.Errorf("missing input image arguments")
	}

	outputFile = args[0]
	if outputFile == "None" || outputFile == "none" {
		outputFile = ""
	}
	return outputFile, args[1:], nil
}
