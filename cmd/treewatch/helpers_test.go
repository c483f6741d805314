package main

import "treewatch/internal/config"

func configOptions(root string) config.Options {
	return config.Options{Root: root}
}
