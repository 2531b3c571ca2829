// Package logx provides a small structured logging facade over zerolog.
//
// Components hold a Logger value tagged with fixed fields (typically a
// comp=<name> field). Loggers created from a Service stay live across
// Service.Apply() calls, so sink/level changes from config reloads take
// effect without re-plumbing loggers.
package logx
