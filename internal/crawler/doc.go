// Package crawler holds the interfaces and value types shared by the
// frontier, fetcher, parser, and storage packages of the wiki crawler.
package crawler
