package httpserver

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// WriteSetupGuidance explains how to fix a server started without a
// fallback route, including the registration call it expects.
func WriteSetupGuidance(w io.Writer) {
	code := color.New(color.FgGreen)
	errLabel := color.New(color.FgRed, color.Bold)

	fmt.Fprintf(w, "%s web server has no error page\n", errLabel.Sprint("Error:"))
	fmt.Fprintln(w, "Help: consider adding an error page")
	fmt.Fprintln(w, code.Sprint(`srv.Route(".", errPage)`))
	fmt.Fprintln(w, "Note: replace errPage with your own handler that returns html for the error page")
	fmt.Fprintf(w, "Note: the handler takes the raw request (%s)\n",
		code.Sprint("func errPage(req httpserver.RequestBuffer) string"))
	fmt.Fprintf(w, "Note: from a config file, add a route with %s\n", code.Sprint(`path: "."`))
}
