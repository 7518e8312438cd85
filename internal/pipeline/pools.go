package pipeline

import "strings"

var vmImagePools = map[string]string{
	"UBUNTU 16.04":  "Hosted Ubuntu 1604",
	"UBUNTU-16.04":  "Hosted Ubuntu 1604",
	"UBUNTU LATEST": "Hosted Ubuntu 1604",
	"UBUNTU-LATEST": "Hosted Ubuntu 1604",
	"UBUNTU 18.04":  "Hosted Ubuntu 1804",
	"UBUNTU-18.04":  "Hosted Ubuntu 1804",

	"VISUAL STUDIO 2015 ON WINDOWS SERVER 2012R2": "Hosted",
	"VISUAL STUDIO 2017 ON WINDOWS SERVER 2016":   "Hosted VS2017",

	"VS2015-WIN2012R2":    "Hosted",
	"VS2017-WIN2016":      "Hosted VS2017",
	"WINDOWS-2019-VS2019": "Hosted Windows 2019 with VS2019",
	"WINDOWS-2019":        "Hosted Windows 2019 with VS2019",
	"WINDOWS LATEST":      "Hosted Windows 2019 with VS2019",
	"WINDOWS-LATEST":      "Hosted Windows 2019 with VS2019",
	"WINDOWS SERVER 1803": "Hosted Windows Container",
	"WIN1803":             "Hosted Windows Container",

	"MACOS 10.13":             "Hosted macOS High Sierra",
	"MACOS-10.13":             "Hosted macOS High Sierra",
	"XCODE 9 ON MACOS 10.13":  "Hosted macOS High Sierra",
	"XCODE9-MACOS10.13":       "Hosted macOS High Sierra",
	"XCODE 10 ON MACOS 10.13": "Hosted macOS High Sierra",
	"XCODE10-MACOS10.13":      "Hosted macOS High Sierra",
	"MACOS 10.14":             "Hosted macOS",
	"MACOS-10.14":             "Hosted macOS",
	"MACOS LATEST":            "Hosted macOS",
	"MACOS-LATEST":            "Hosted macOS",
}

// PoolNameForVMImage maps a hosted VM image label to its pool. Unknown
// images return "".
func PoolNameForVMImage(image string) string {
	return vmImagePools[strings.ToUpper(image)]
}
