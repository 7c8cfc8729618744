// Package longhaul holds the run configuration and test-catalog model shared
// by the load driver, the trace writer, and the offline trace readers.
package longhaul
