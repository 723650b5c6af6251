// version.go
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package stratacache

// Version is the engine's semantic version, reported by the wire "version"
// command.
const Version = "0.1.0"
