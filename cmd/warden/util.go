package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/loykin/warden/pkg/client"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// renderLaunchFailure prints the console output attached to a launch
// failure before handing the error back to cobra.
func renderLaunchFailure(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && len(apiErr.Output) > 0 {
		_, _ = fmt.Fprintln(os.Stderr, "captured console output:")
		for _, line := range apiErr.Output {
			_, _ = fmt.Fprintln(os.Stderr, "  "+line)
		}
	}
	return err
}
