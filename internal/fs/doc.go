// Package fs abstracts the file system under LocalStore so that tests can
// inject failures (a full disk, a failed rename) into archive writes.
package fs
