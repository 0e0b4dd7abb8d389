// Package common contains the helpers shared by the library packages and the
// command line interface: the logger factory and the formatting of
// configuration structs.
//
// All packages log through the dragonboat logger registry:
//
//	var log = logger.GetLogger("part")
//
// common.InitLoggers replaces the default dragonboat formatter with the
// pcache formatter (`LEVEL | package | message`) and sets the level of all
// pcache loggers at once.
package common
