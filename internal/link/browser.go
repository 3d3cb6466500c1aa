package link

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener opens the login URL in the local default browser. Used
// by the terminal link flow; the dashboard frontend opens its own popup
// and uses NopOpener instead.
type BrowserOpener struct{}

// Open launches the platform browser opener for the URL. A failure to
// spawn maps to the popup-blocked condition at the caller.
func (BrowserOpener) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}
