package centrallink

import "errors"

var errNoPublicIP = errors.New("centrallink: no endpoint returned a valid public ip")
