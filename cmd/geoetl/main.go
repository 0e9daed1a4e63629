// Command geoetl 运行编排服务、工作进程，并提供作业管理命令。
package main

func main() { Execute() }
