package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/adapters/remote/httpstore"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// VersionInfo describes this build.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	RemoteAPI string `json:"remote_api"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func currentVersion() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		RemoteAPI: httpstore.EndpointEntities,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Long:        `Display the tempo version, the remote API it speaks and build details.`,
		Annotations: map[string]string{skipAppInit: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(newFormatter(cmd), short)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")

	return cmd
}

func runVersion(formatter *output.Formatter, short bool) error {
	info := currentVersion()
	switch {
	case formatter.Format() == output.FormatJSON && short:
		return formatter.JSON(map[string]string{"version": info.Version})
	case formatter.Format() == output.FormatJSON:
		return formatter.JSON(info)
	case short:
		return formatter.Println("%s", info.Version)
	}

	formatter.Header("Tempo " + info.Version)
	formatter.Item("Version", info.Version)
	formatter.Item("Remote API", info.RemoteAPI)
	formatter.Item("Git commit", info.GitCommit)
	formatter.Item("Built", info.BuildDate)
	formatter.Item("Go", info.GoVersion)
	formatter.Item("Platform", info.Platform)
	return nil
}
