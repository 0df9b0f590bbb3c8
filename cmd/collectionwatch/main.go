// Command collectionwatch polls the Reservoir marketplace API for tracked NFT collections and posts
// floor, top-bid, listing, sale and burn alerts to Telegram and Discord.
package main

import "collectionwatch/internal/cli"

func main() {
	cli.Execute()
}
