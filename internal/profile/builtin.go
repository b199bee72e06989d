package profile

import "time"

var ciscoStyleMarkers = []string{"% Invalid input", "% Incomplete command", "% Unknown command", "% Ambiguous command"}

// Builtin returns the bundled vendor profiles in priority order.
func Builtin() []Profile {
	return []Profile{
		{
			Name:           "mikrotik",
			Match:          []string{"mikrotik", "routeros", "routerboard"},
			ConnectionType: SSH,
			Steps: []Step{
				{
					Kind:         KindCommand,
					Command:      "/export file={{name}}",
					ErrorMarkers: []string{"failure:", "bad command name", "expected end of command", "syntax error"},
					Timeout:      2 * time.Minute,
				},
				{Kind: KindDownload, RemoteFile: "{{name}}.rsc"},
			},
			Cleanup:            []Step{{Kind: KindCommand, Command: "/file remove {{name}}.rsc"}},
			AcceptedExtensions: []string{".rsc"},
		},
		{
			// NE-series routers on older VRP builds only expose Telnet.
			Name:           "huawei-ne-legacy",
			Match:          []string{"huawei ne", "huawei-ne", "ne40", "ne20"},
			ConnectionType: Telnet,
			Steps: []Step{
				{Kind: KindCommand, Command: "screen-length 0 temporary", ErrorMarkers: []string{"Error:", "Unrecognized command"}},
				{Kind: KindCapture, Command: "display current-configuration", ErrorMarkers: []string{"Error:", "Unrecognized command"}, Timeout: 3 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
			Prompts: &Prompts{
				Username: []string{"Username:"},
				Password: []string{"Password:"},
				Shell:    []string{">", "]"},
				Failure:  []string{"Error: Username or password error", "Authentication fail"},
			},
		},
		{
			Name:           "huawei",
			Match:          []string{"huawei"},
			ConnectionType: SSH,
			Steps: []Step{
				{Kind: KindCapture, Command: "display current-configuration", ErrorMarkers: []string{"Error:", "Unrecognized command"}, Timeout: 3 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
		},
		{
			Name:           "cisco",
			Match:          []string{"cisco", "ios-xe", "catalyst", "nexus"},
			ConnectionType: SSH,
			Steps: []Step{
				{Kind: KindCapture, Command: "show running-config", ErrorMarkers: ciscoStyleMarkers, Timeout: 2 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
		},
		{
			Name:           "juniper",
			Match:          []string{"juniper", "junos"},
			ConnectionType: SSH,
			Steps: []Step{
				{Kind: KindCapture, Command: "show configuration | display set | no-more", ErrorMarkers: []string{"syntax error", "unknown command"}, Timeout: 2 * time.Minute},
			},
			AcceptedExtensions: []string{".conf", ".txt"},
		},
		{
			Name:           "datacom",
			Match:          []string{"datacom", "dmos"},
			ConnectionType: SSH,
			Steps: []Step{
				{Kind: KindCapture, Command: "show running-config | nomore", ErrorMarkers: []string{"syntax error", "% Invalid"}, Timeout: 2 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
		},
		{
			Name:           "zte-olt",
			Match:          []string{"zte", "c300", "c320", "c600", "c650"},
			ConnectionType: Telnet,
			Steps: []Step{
				{Kind: KindCommand, Command: "terminal length 0", ErrorMarkers: ciscoStyleMarkers},
				{Kind: KindCapture, Command: "show running-config", ErrorMarkers: ciscoStyleMarkers, Timeout: 5 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
			Prompts: &Prompts{
				Username: []string{"Username:"},
				Password: []string{"Password:"},
				Shell:    []string{"#", ">"},
				Failure:  []string{"%Error 20203", "Bad Password", "No username or bad password"},
			},
		},
		{
			Name:           "fiberhome-olt",
			Match:          []string{"fiberhome", "an5516", "an6000"},
			ConnectionType: Telnet,
			Steps: []Step{
				{Kind: KindCommand, Command: "terminal length 0", ErrorMarkers: []string{"Unknown command", "% Invalid"}},
				{Kind: KindCapture, Command: "show running-config", ErrorMarkers: []string{"Unknown command", "% Invalid"}, Timeout: 5 * time.Minute},
			},
			AcceptedExtensions: []string{".cfg", ".txt"},
			Prompts: &Prompts{
				Username: []string{"Login:", "Username:"},
				Password: []string{"Password:"},
				Shell:    []string{"#", ">"},
				Failure:  []string{"Bad password", "Login failed"},
			},
		},
		{
			Name:           "ubiquiti-airos",
			Match:          []string{"ubiquiti", "airos", "airmax", "litebeam", "powerbeam", "nanostation"},
			ConnectionType: HTTP,
			Login: &HTTPLogin{
				Method:         "POST",
				Path:           "/api/auth",
				Form:           map[string]string{"username": "{{username}}", "password": "{{password}}"},
				FailureMarkers: []string{"Invalid credentials", "login failed"},
			},
			Steps: []Step{
				{Kind: KindDownload, Method: "GET", Path: "/cfg.cgi"},
			},
			AcceptedExtensions: []string{".cfg"},
		},
		{
			Name:           "intelbras",
			Match:          []string{"intelbras", "wom", "apc 5a"},
			ConnectionType: HTTP,
			Login:          &HTTPLogin{Basic: true},
			Steps: []Step{
				{Kind: KindDownload, Method: "GET", Path: "/cgi-bin/backup.cgi"},
			},
			AcceptedExtensions: []string{".cfg", ".bin"},
		},
	}
}

// Default returns a registry loaded with Builtin.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic("profile: invalid built-in profile: " + err.Error())
	}
	return r
}
