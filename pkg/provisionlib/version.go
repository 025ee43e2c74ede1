// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

package provisionlib

// ToolVersion specifies the version of the tools in this module.
const ToolVersion = "0.2.0"
