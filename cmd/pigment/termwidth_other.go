//go:build !linux

package main

func termWidth() int {
	return 80
}
