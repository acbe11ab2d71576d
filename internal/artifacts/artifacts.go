package artifacts

import _ "embed"

// GlobalSettings is the default settings.yaml written by "wbkfs daemon config --init".
//
//go:embed global/settings.yaml
var GlobalSettings []byte
