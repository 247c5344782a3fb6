package server

import (
	"strings"

	"github.com/TheGojiOG/CfxSM/internal/builds"
	"github.com/TheGojiOG/CfxSM/internal/config"
	"github.com/TheGojiOG/CfxSM/internal/datafolder"
)

// RedactedPlaceholder replaces the license key in anything that is logged.
const RedactedPlaceholder = "REDACTED"

// LaunchParameters is the resolved command line for one server start.
// License is kept so diagnostics can redact it.
type LaunchParameters struct {
	Args    []string
	License string
}

// GameToken is the gamename value for a folder's game
func GameToken(game datafolder.Game) string {
	if game == datafolder.GameRDR3 {
		return "rdr3"
	}
	return "gtav"
}

// ResolveLicense picks the folder's own license when it asks for one,
// otherwise the global key.
func ResolveLicense(cfg *config.Config, settings datafolder.Settings) string {
	if settings.License.UseCustom {
		return settings.License.Custom
	}
	return cfg.CFXToken
}

// OneSyncFlags returns the onesync_enabled and onesync_enableInfinity values.
// Infinity implies OneSync.
func OneSyncFlags(oneSync, infinity bool) (enabled, enableInfinity int) {
	if oneSync || infinity {
		enabled = 1
	}
	if infinity {
		enableInfinity = 1
	}
	return enabled, enableInfinity
}

// BuildLaunchArguments resolves the server arguments for build and folder settings
func BuildLaunchArguments(cfg *config.Config, settings datafolder.Settings, build *builds.Build) LaunchParameters {
	license := ResolveLicense(cfg, settings)
	enabled, infinity := OneSyncFlags(settings.OneSync, settings.OneSyncInfinity)

	configName := settings.Config
	if configName == "" {
		configName = datafolder.DefaultServerConfig
	}

	args := []string{
		"+set", "citizen_dir", build.CitizenDir(),
		"+set", "sv_licenseKey", license,
		"+set", "steam_webApiKey", cfg.SteamToken,
		"+set", "onesync_enabled", flag(enabled),
		"+set", "onesync_enableInfinity", flag(infinity),
		"+set", "gamename", GameToken(settings.Game),
		"+exec", configName,
	}
	return LaunchParameters{Args: args, License: license}
}

// CommandLine joins the arguments into one string, quoting values that
// contain spaces. The result still holds the license.
func (p LaunchParameters) CommandLine() string {
	return joinArgs(p.Args)
}

// Redacted is CommandLine with the license removed. Each argument is
// redacted before quoting so escaping cannot split the license.
func (p LaunchParameters) Redacted() string {
	args := make([]string, len(p.Args))
	for i, arg := range p.Args {
		args[i] = RedactArguments(arg, p.License)
	}
	return joinArgs(args)
}

func joinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"") {
			parts[i] = `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
			continue
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}

// RedactArguments replaces every occurrence of license in line
func RedactArguments(line, license string) string {
	if license == "" {
		return line
	}
	return strings.ReplaceAll(line, license, RedactedPlaceholder)
}

func flag(v int) string {
	if v == 1 {
		return "1"
	}
	return "0"
}
