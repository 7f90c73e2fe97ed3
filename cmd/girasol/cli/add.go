package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/editor"
	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/ui"
)

var (
	addEditor string
	addFile   string
)

var addCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a trace definition",
	Long: `Add a trace definition to the catalog.

Without --file, a YAML template opens in $VISUAL or $EDITOR (or --editor).
Saving an invalid definition reopens the editor with the error at the top;
saving the file unchanged aborts.

Use --file - to read the definition from stdin.`,
	Example: `  girasol add probe1
  girasol add --file probe1.yaml
  girasol add --editor "code --wait"`,
	Args: cobra.MaximumNArgs(1),
	RunE: addDefinition,
}

func init() {
	addCmd.Flags().StringVar(&addEditor, "editor", "", "editor command (default $VISUAL, $EDITOR, vi)")
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "read the definition from a YAML file instead of an editor")
	rootCmd.AddCommand(addCmd)
}

func addDefinition(cmd *cobra.Command, args []string) error {
	var def model.TraceDefinition
	var err error
	if addFile != "" {
		def, err = readDefinitionFile(addFile)
	} else {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		def, err = editDefinition(editor.New(addEditor), model.Template(name))
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	backend, closeFn, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := backend.Add(ctx, def); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(def)
	}
	ui.Printf("Added %s\n", ui.Bold(def.Name))
	return nil
}

func readDefinitionFile(path string) (model.TraceDefinition, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.TraceDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := parseDefinition(data)
	if err != nil {
		return model.TraceDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func parseDefinition(data []byte) (model.TraceDefinition, error) {
	def, err := model.ParseYAML(data)
	if err != nil {
		return model.TraceDefinition{}, err
	}
	if err := model.Validate(def); err != nil {
		return model.TraceDefinition{}, err
	}
	return def, nil
}

// editDefinition loops through the editor until it yields a valid
// definition or the user saves without changes.
func editDefinition(ed *editor.Editor, doc []byte) (model.TraceDefinition, error) {
	for {
		edited, err := ed.Edit(doc, ".yaml")
		if errors.Is(err, editor.ErrUnchanged) {
			return model.TraceDefinition{}, fmt.Errorf("aborted: definition not saved")
		}
		if err != nil {
			return model.TraceDefinition{}, err
		}

		def, err := parseDefinition(stripErrorHeader(edited))
		if err == nil {
			return def, nil
		}
		ui.Warnf("invalid definition: %v", err)
		doc = append([]byte(errorHeader(err)), stripErrorHeader(edited)...)
	}
}

const errorPrefix = "# ERROR: "

func errorHeader(err error) string {
	var b strings.Builder
	for _, line := range strings.Split(err.Error(), "\n") {
		b.WriteString(errorPrefix + line + "\n")
	}
	return b.String()
}

func stripErrorHeader(data []byte) []byte {
	for bytes.HasPrefix(data, []byte(errorPrefix)) {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	return data
}
