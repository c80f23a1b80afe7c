package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/subzero/internal/deploy"
)

// Deployer backs the USB tools.
type Deployer interface {
	Drives(ctx context.Context) ([]deploy.Drive, error)
	DeployToUSB(ctx context.Context, drive string) (*deploy.Deployment, error)
	Download(ctx context.Context, dest string, toUSB bool, ref string) (*deploy.Deployment, error)
}

type deployParams struct {
	Drive string `param:"drive"`
}

type downloadParams struct {
	Destination string `param:"destination"`
	// USB is a yes/no flag; empty means yes.
	USB string `param:"usb"`
	Ref string `param:"ref"`
}

func (p *downloadParams) toUSB() bool {
	switch strings.ToLower(strings.TrimSpace(p.USB)) {
	case "", "true", "yes", "1":
		return true
	}
	return false
}

func deployToUSBHandler(d Deployer) Handler {
	return typed(func(ctx context.Context, p deployParams) Result {
		dep, err := d.DeployToUSB(ctx, strings.TrimSpace(p.Drive))
		if err != nil {
			return Fail(err)
		}
		return OKData(fmt.Sprintf("SubZero deployed to %s (%d files).", dep.Dest, dep.Files), dep)
	})
}

func downloadHandler(d Deployer) Handler {
	return typed(func(ctx context.Context, p downloadParams) Result {
		dest := strings.TrimSpace(p.Destination)
		dep, err := d.Download(ctx, dest, p.toUSB(), strings.TrimSpace(p.Ref))
		if err != nil {
			return Fail(fmt.Errorf("download failed: %w", err))
		}
		verb := "downloaded"
		if dep.Method == "git" {
			verb = "cloned"
		}
		return OKData(fmt.Sprintf("SubZero %s to %s (%d files).", verb, dep.Dest, dep.Files), dep)
	})
}

func detectUSBHandler(d Deployer) Handler {
	return typed(func(ctx context.Context, _ noParams) Result {
		drives, err := d.Drives(ctx)
		if err != nil {
			return Fail(err)
		}
		if len(drives) == 0 {
			return OK("No USB drives detected. Plug in a USB stick.")
		}
		lines := make([]string, len(drives))
		for i, dr := range drives {
			lines[i] = "  " + dr.String()
		}
		return OKData("USB drives found:\n"+strings.Join(lines, "\n"), drives)
	})
}
