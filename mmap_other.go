//go:build !unix

package main

import "os"

func mapFile(name string) (buf []byte, release func(), err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return readFile(f)
}
